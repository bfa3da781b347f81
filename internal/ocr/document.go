package ocr

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/model"
)

// Document is a loaded input file ready for the pipeline.
type Document struct {
	FileName string
	FileType string
	FileSize int64
	Text     string
	Image    *model.ImagePayload
}

var imageMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// LoadDocument reads the file at path and prepares pipeline input. PDFs are
// OCRed via the extractor, plain text is read directly, and images are
// base64-encoded for the model's vision input.
func LoadDocument(ctx context.Context, ext Extractor, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: stat %s", path)
	}

	doc := &Document{
		FileName: filepath.Base(path),
		FileSize: info.Size(),
	}

	switch e := strings.ToLower(filepath.Ext(path)); e {
	case ".pdf":
		doc.FileType = "pdf"
		text, err := ext.ExtractText(ctx, path)
		if err != nil {
			return nil, err
		}
		doc.Text = text
	case ".txt", ".md":
		doc.FileType = "text"
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ocr: read %s", path)
		}
		doc.Text = string(data)
	default:
		mediaType, ok := imageMediaTypes[e]
		if !ok {
			return nil, eris.Errorf("ocr: unsupported file type %q", e)
		}
		doc.FileType = "image"
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ocr: read %s", path)
		}
		doc.Image = &model.ImagePayload{
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		}
	}

	return doc, nil
}
