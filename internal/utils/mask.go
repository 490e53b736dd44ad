package utils

// MaskSecret keeps just enough of a credential to recognize it in logs.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}
