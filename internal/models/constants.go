package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n---\n"

	MetaSource  = "source"
	MetaPage    = "page"
	MetaChunkID = "chunk_id"
	MetaTitle   = "title"
	MetaSection = "section"
)

var (
	HumanPromptTemplate = `Pergunta: {{.question}}`
)
