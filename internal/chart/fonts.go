package chart

import (
	"fmt"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// Fonts holds the parsed typefaces shared by every render. A Fonts value is
// never modified after loading; faces, which carry per-use state, are created
// per render call.
type Fonts struct {
	Regular *opentype.Font
	Bold    *opentype.Font
}

// LoadDefaultFonts parses the Go fonts bundled with x/image.
func LoadDefaultFonts() (*Fonts, error) {
	return parseFonts(goregular.TTF, gobold.TTF)
}

// LoadFontFiles parses TrueType/OpenType files from disk. An empty boldPath
// reuses the regular face for headings.
func LoadFontFiles(regularPath, boldPath string) (*Fonts, error) {
	regularData, err := os.ReadFile(regularPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", regularPath, err)
	}
	boldData := regularData
	if boldPath != "" {
		boldData, err = os.ReadFile(boldPath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", boldPath, err)
		}
	}
	return parseFonts(regularData, boldData)
}

func parseFonts(regularData, boldData []byte) (*Fonts, error) {
	regular, err := opentype.Parse(regularData)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(boldData)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Fonts{Regular: regular, Bold: bold}, nil
}

// Covers reports whether both typefaces have a glyph for every rune in s.
func (f *Fonts) Covers(s string) bool {
	return missingGlyph(f.Regular, s) < 0 && missingGlyph(f.Bold, s) < 0
}

// missingGlyph returns the first rune of s the font maps to .notdef, or -1.
func missingGlyph(fnt *sfnt.Font, s string) rune {
	var buf sfnt.Buffer
	for _, r := range s {
		if r == '\n' {
			continue
		}
		idx, err := fnt.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			return r
		}
	}
	return -1
}

// faceSet is the per-render set of sized faces.
type faceSet struct {
	label     font.Face
	labelFont *sfnt.Font
	title     font.Face
	titleFont *sfnt.Font
}

func (f *Fonts) newFaces(cfg Config) (*faceSet, error) {
	label, err := opentype.NewFace(f.Regular, &opentype.FaceOptions{
		Size:    cfg.LabelSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create label face: %w", err)
	}
	title, err := opentype.NewFace(f.Bold, &opentype.FaceOptions{
		Size:    cfg.TitleSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create title face: %w", err)
	}
	return &faceSet{label: label, labelFont: f.Regular, title: title, titleFont: f.Bold}, nil
}

func (fs *faceSet) close() {
	fs.label.Close()
	fs.title.Close()
}

func textWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

func lineHeight(face font.Face) int {
	return face.Metrics().Height.Ceil()
}
