package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/Lllllllleong/docingest/internal/models"
)

const wordprocessingNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// ExtractDOCX pulls the plain text out of a DOCX container: it reads
// word/document.xml from the ZIP archive, concatenates the text runs of each
// paragraph, and joins non-empty paragraphs with newlines.
func ExtractDOCX(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("word/document.xml not found in archive")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var paragraphs []string
	var current strings.Builder
	var inParagraph, inRun bool

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordprocessingNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				inRun = inParagraph
			}

		case xml.CharData:
			if inRun {
				current.Write(t)
			}

		case xml.EndElement:
			if t.Name.Space != wordprocessingNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				if inParagraph && current.Len() > 0 {
					paragraphs = append(paragraphs, current.String())
				}
				inParagraph = false
			}
		}
	}

	return strings.Join(paragraphs, "\n"), nil
}

// DirectResult wraps directly extracted text as an extraction result. A
// structured format carries no recognition uncertainty, so both confidence
// values are 1.0 and the document counts as a single page.
func DirectResult(ref models.DocumentRef, text string) models.ExtractionResult {
	return models.ExtractionResult{
		SourceKey:     ref.Key,
		DocID:         ref.DocID,
		IngestDate:    ref.IngestDate,
		Pages:         1,
		AvgConfidence: 1.0,
		MinConfidence: 1.0,
		Format:        "DOCX",
		Text:          text,
	}
}
