package ldclient

// Logger is a generic logger interface, compatible with log.Logger from the standard library.
//
// Deprecated: The SDK now uses the ldlog.Loggers abstraction, which can delegate to any number
// of objects with this same interface. This type is retained for backward compatibility with
// the Config.Logger property.
type Logger interface {
	// Println prints a line with the arguments separated by spaces, like fmt.Println.
	Println(values ...interface{})
	// Printf prints a formatted string, like fmt.Printf.
	Printf(format string, values ...interface{})
}
