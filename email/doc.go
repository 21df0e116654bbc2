package email

// email is responsible for turning a message (sender, recipients, subject,
// HTML body and attachments) into a MIME multipart/mixed document and for
// driving a session.Session through the mail transaction that delivers it.
// It also owns the user-facing relay configuration. It never touches the
// network itself; every byte goes through the session.
