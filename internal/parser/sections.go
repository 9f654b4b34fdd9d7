package parser

import (
	"bytes"
	"strings"

	"rag-chat/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// sectionLevel is the heading depth that starts a new section.
const sectionLevel = 2

type sectionCut struct {
	offset int
	name   string
}

// SplitSections cuts a Markdown file at its top level "##" headings. Each
// section becomes a document that carries the file title (the first "#"
// heading) and its own heading as metadata. Text before the first section is
// kept as a preamble document.
func SplitSections(source string, src []byte) []models.Document {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(src))

	var (
		title, firstHeading string
		cuts                []sectionCut
	)
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		name := headingText(h, src)
		if firstHeading == "" {
			firstHeading = name
		}
		if h.Level == 1 && title == "" {
			title = name
		}
		if h.Level == sectionLevel && h.Parent() == root && h.Lines().Len() > 0 {
			cuts = append(cuts, sectionCut{offset: lineStart(src, h.Lines().At(0).Start), name: name})
		}
		return ast.WalkSkipChildren, nil
	})
	if title == "" {
		title = firstHeading
	}

	var docs []models.Document
	add := func(body []byte, section string) {
		content := string(bytes.TrimSpace(body))
		if content == "" {
			return
		}
		doc := newDocument(source, content, defaultPageNumber)
		if title != "" {
			doc.Metadata[models.MetaTitle] = title
		}
		if section != "" {
			doc.Metadata[models.MetaSection] = section
		}
		docs = append(docs, doc)
	}

	if len(cuts) == 0 {
		add(src, "")
		return docs
	}
	add(src[:cuts[0].offset], "")
	for i, c := range cuts {
		end := len(src)
		if i+1 < len(cuts) {
			end = cuts[i+1].offset
		}
		add(src[c.offset:end], c.name)
	}
	return docs
}

func headingText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func lineStart(src []byte, pos int) int {
	if i := bytes.LastIndexByte(src[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
