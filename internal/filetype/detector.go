package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const mimePDF = "application/pdf"

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Mergeable   bool
	Description string
}

// Detector classifies source documents by magic bytes.
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect sniffs data and reports whether its pages can be split or merged.
// The file name a document was stored under is never trusted.
func (d *Detector) Detect(data []byte) *FileTypeInfo {
	mtype := mimetype.Detect(data)
	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	if i := strings.IndexByte(info.MIMEType, ';'); i >= 0 {
		info.MIMEType = strings.TrimSpace(info.MIMEType[:i])
	}
	d.classify(info)
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Bool("mergeable", info.Mergeable).Msg("detected file type")
	return info
}

func (d *Detector) classify(info *FileTypeInfo) {
	switch {
	case info.MIMEType == mimePDF:
		info.Mergeable = true
		info.Description = "PDF document"
	case strings.HasPrefix(info.MIMEType, "image/"):
		info.Description = "Image file without PDF rendition"
	case strings.HasPrefix(info.MIMEType, "text/"):
		info.Description = "Plain text file without PDF rendition"
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}

// IsPDF is a shortcut for Detect(data).Mergeable.
func (d *Detector) IsPDF(data []byte) bool {
	return d.Detect(data).Mergeable
}
