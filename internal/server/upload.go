package server

import (
	"io"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/MrWong99/voxident/internal/errdefs"
)

// spoolUpload copies the named multipart file into the data dir and
// returns its path. The caller owns the file. A missing or unreadable
// part is the client's fault, not ours.
func (s *Server) spoolUpload(c echo.Context, field string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", errdefs.E(errdefs.KindInvalidInput, "missing %q file upload", field)
	}
	src, err := fh.Open()
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindInvalidInput, err, "unreadable %q upload", field)
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.opts.DataDir, "upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
