//go:build !(linux || darwin || freebsd)

package diskusage

import "errors"

func statfs(string) (Usage, error) {
	return Usage{}, errors.ErrUnsupported
}
