//go:build !linux

package execattr

func stat(path string) (Attributes, error) {
	return Attributes{}, ErrUnsupported
}
