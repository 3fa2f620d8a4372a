package filetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	d := New()

	pdf := d.Detect([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"))
	assert.Equal(t, "application/pdf", pdf.MIMEType)
	assert.True(t, pdf.Mergeable)

	png := d.Detect([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	assert.Equal(t, "image/png", png.MIMEType)
	assert.False(t, png.Mergeable)

	txt := d.Detect([]byte("just some words"))
	assert.Equal(t, "text/plain", txt.MIMEType)
	assert.False(t, d.IsPDF([]byte("just some words")))
}
