package util

// PrefixConfig joins a flag option name to its namespace prefix. Modules
// register their flags through this so a parent config embedding several of
// them can push them all under one namespace. An empty prefix leaves the
// option name untouched.
func PrefixConfig(prefix string, option string) string {
	if prefix == "" {
		return option
	}
	return prefix + "." + option
}
