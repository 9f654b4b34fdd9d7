package parser

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rag-chat/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

const defaultPageNumber = 1

var ErrUnsupportedFormat = errors.New("unsupported file format")

// NotFoundError is returned when the knowledge source does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("knowledge source not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return fs.ErrNotExist }

// Supported reports whether Load knows how to read the file extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return false
}

// Load reads a knowledge file, or every supported file under a directory,
// into documents. Blank pages and sections are dropped.
func Load(path string) ([]models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return loadDir(path)
	}
	return loadFile(path)
}

func loadDir(dir string) ([]models.Document, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)

	var docs []models.Document
	for _, f := range files {
		d, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d...)
	}
	return docs, nil
}

func loadFile(filePath string) ([]models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		docs []models.Document
		err  error
	)
	switch ext {
	case ".md", ".markdown":
		docs, err = parseMarkdown(filePath)
	case ".txt":
		docs, err = parseText(filePath)
	case ".pdf":
		docs, err = parsePDF(filePath)
	case ".docx":
		docs, err = parseDOCX(filePath)
	case ".pptx":
		docs, err = parsePPTX(filePath)
	case ".xlsx":
		docs, err = parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		docs, err = parseExcelize(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	log.Debug().Str("file", filePath).Int("documents", len(docs)).Msg("Loaded knowledge file")
	return docs, nil
}

func newDocument(source, content string, page int) models.Document {
	return models.Document{
		Source:     source,
		Content:    content,
		PageNumber: page,
		Metadata: map[string]string{
			models.MetaSource: source,
			models.MetaPage:   strconv.Itoa(page),
		},
	}
}

func parseMarkdown(filePath string) ([]models.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return SplitSections(filePath, data), nil
}

func parseText(filePath string) ([]models.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	return []models.Document{newDocument(filePath, string(data), defaultPageNumber)}, nil
}

func parsePDF(filePath string) ([]models.Document, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []models.Document
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		docs = append(docs, newDocument(filePath, pageText, i))
	}
	return docs, nil
}

func parseDOCX(filePath string) ([]models.Document, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the raw document.xml body
	text, err := textFromOOXML(strings.NewReader(r.Editable().GetContent()), "t", "p")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []models.Document{newDocument(filePath, text, defaultPageNumber)}, nil
}

func parsePPTX(filePath string) ([]models.Document, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") || !strings.HasSuffix(file.Name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		text, err := textFromOOXML(rc, "t", "p")
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", num, err)
		}
		if strings.TrimSpace(text) != "" {
			slides = append(slides, slide{num: num, text: text})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	docs := make([]models.Document, 0, len(slides))
	for _, s := range slides {
		docs = append(docs, newDocument(filePath, s.text, s.num))
	}
	return docs, nil
}

func parseXLSX(filePath string) ([]models.Document, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var docs []models.Document
	for sheetNum, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		if doc, ok := sheetDocument(filePath, sheet.Name, sheetNum+1, rows); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func parseExcelize(filePath string) ([]models.Document, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []models.Document
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		if doc, ok := sheetDocument(filePath, sheetName, sheetNum+1, rows); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// sheetDocument renders a sheet as a tab separated block under a section header.
func sheetDocument(source, name string, num int, rows [][]string) (models.Document, bool) {
	var text strings.Builder
	var cells int
	fmt.Fprintf(&text, "## Sheet: %s\n", name)
	for _, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		cells += len(row)
		text.WriteString(strings.Join(row, "\t"))
		text.WriteString("\n")
	}
	if cells == 0 {
		return models.Document{}, false
	}
	doc := newDocument(source, text.String(), num)
	doc.Metadata[models.MetaSection] = name
	return doc, true
}

// textFromOOXML collects the character data of <textElem> nodes, ending a line
// at every closing <paraElem>. Namespace prefixes are ignored.
func textFromOOXML(r io.Reader, textElem, paraElem string) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		text   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textElem:
				inText = false
			case paraElem:
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return strings.TrimSpace(text.String()), nil
}
