package html

// html is responsible for generating the HTML body of an email from a
// user-supplied template. It's not concerned with the lower-level logic
// involved in sending the email, and the rendered HTML can be used for other
// purposes, e.g., previewing a message in a browser.
