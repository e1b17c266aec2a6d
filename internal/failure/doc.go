// Package failure defines the error taxonomy shared by both transports.
// Every error carries a kind (connection, protocol, io, parse) and the session
// phase it happened in, so a report can say where a protocol run broke.
package failure
