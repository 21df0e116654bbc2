package session

// session is responsible for the command/response half of talking to an SMTP
// relay: opening the stream, reading the greeting, HELO, AUTH LOGIN and the
// envelope commands, and checking every reply code on the way. It knows
// nothing about what is inside a message. Every line sent or received is
// kept in an append-only trace so callers can see exactly where a
// conversation went wrong.
