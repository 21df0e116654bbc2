package e2e

// e2e contains integration tests and utility code required to set up
// dependencies. Each test writes a real YAML config, parses it the way the
// relaymail command does and runs a send cycle against an in-process relay.
// Note that some e2e test dependencies are also used by unit tests--these
// dependencies are not included here. (These were intended to be end-to-end
// tests but became integration tests instead, hence the name.)
