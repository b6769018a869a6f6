package utils

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Characters that could alter a CLI command when interpolated as an argument
var dangerousCharacters = []string{
	";",    // Command separator
	"|",    // Pipe
	"&",    // Background/AND
	"$",    // Variable expansion
	"`",    // Command substitution
	"(",    // Subshell
	")",    // Subshell
	"<",    // Input redirection
	">",    // Output redirection
	"\n",   // Newline (command separator)
	"\r",   // Carriage return
	"*",    // Glob wildcard
	"'",    // String delimiter (can break out of quotes)
	"\"",   // String delimiter (can break out of quotes)
	"\\",   // Escape character
	"\t",   // Tab
	" ",    // Argument separator
	"\x00", // Null byte
}

var (
	// driverKeyPart matches manufacturer and model names
	driverKeyPart = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

	// usernamePattern matches array login names
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]{1,64}$`)
)

// ValidateCommandArgument rejects values that would change the meaning of a
// remote CLI command when substituted into it.
func ValidateCommandArgument(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	for _, char := range dangerousCharacters {
		if strings.Contains(value, char) {
			return fmt.Errorf("%s contains forbidden character %q", name, char)
		}
	}
	return nil
}

// ValidateRegistration checks a registration request before any connection is attempted
func ValidateRegistration(manufacturer, model, host string, port int, username, password string) error {
	if !driverKeyPart.MatchString(manufacturer) {
		return fmt.Errorf("invalid manufacturer %q", manufacturer)
	}
	if !driverKeyPart.MatchString(model) {
		return fmt.Errorf("invalid model %q", model)
	}
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if strings.ContainsAny(host, " /\\@") {
		return fmt.Errorf("invalid host %q", host)
	}
	if ip := net.ParseIP(host); ip == nil && strings.Contains(host, ":") {
		return fmt.Errorf("invalid host %q", host)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535: %d", port)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("invalid username")
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	return nil
}
