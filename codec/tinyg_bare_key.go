package codec

import "regexp"

func mustBareKeyRegexp() *regexp.Regexp {
	return regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
}
