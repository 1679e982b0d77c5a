package shared

import "strings"

// CLIHelp trims the blank lines around a raw-string help text so that it can
// be written indented inside a command literal.
func CLIHelp(s string) string {
	return strings.Trim(s, "\n\t ")
}

// CLIExample formats a raw-string example block the way cobra prints
// examples, indented by two spaces.
func CLIExample(s string) string {
	lines := strings.Split(CLIHelp(s), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "  " + strings.TrimRight(line, " ")
		}
	}
	return strings.Join(lines, "\n")
}
