package dispatch

// dispatch runs one send cycle for the relaymail command: it builds the
// message described by the user config, talks to the relay through a
// session, and archives what was said on the wire. Each call to Run is
// independent and opens its own connection and database handle.
