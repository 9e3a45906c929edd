// Package importer reads flashcards written as Q:/A:/C: blocks in markdown
// files, from a local directory or a git repository.
package importer

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	separator      = "---"
)

// Note is one card as written in a markdown file. Context is optional and
// becomes a tag on import.
type Note struct {
	Question string
	Answer   string
	Context  string
	File     string // relative path the note was read from
}

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
)

// ParseFile reads a file from the given path and extracts all notes.
func ParseFile(path string) ([]Note, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse extracts notes from r. A note starts at a Q: line and ends at the
// next Q:, a "---" line or the end of input. Notes without a question or an
// answer are dropped.
func Parse(r io.Reader) ([]Note, error) {
	p := &noteParser{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	p.finish()
	return p.notes, nil
}

type noteParser struct {
	notes   []Note
	current Note
	block   []string
	state   state
}

func (p *noteParser) line(line string) {
	if line == separator {
		p.finish()
		return
	}

	switch {
	case strings.HasPrefix(line, questionPrefix):
		// A new question always starts a new note.
		if p.state != seeking {
			p.finish()
		}
		p.begin(readingQuestion, line[len(questionPrefix):])
	case strings.HasPrefix(line, answerPrefix) && p.state != seeking:
		p.flush()
		p.begin(readingAnswer, line[len(answerPrefix):])
	case strings.HasPrefix(line, contextPrefix) && p.state != seeking:
		p.flush()
		p.begin(readingContext, line[len(contextPrefix):])
	case p.state != seeking:
		p.block = append(p.block, line)
	}
}

func (p *noteParser) begin(s state, rest string) {
	p.state = s
	p.block = append(p.block, strings.TrimPrefix(rest, " "))
}

// flush stores the lines collected so far into the field being read.
func (p *noteParser) flush() {
	if len(p.block) == 0 {
		return
	}
	content := strings.TrimSpace(strings.Join(p.block, "\n"))
	switch p.state {
	case readingQuestion:
		p.current.Question = content
	case readingAnswer:
		p.current.Answer = content
	case readingContext:
		p.current.Context = content
	}
	p.block = nil
}

func (p *noteParser) finish() {
	p.flush()
	if p.current.Question != "" && p.current.Answer != "" {
		p.notes = append(p.notes, p.current)
	}
	p.current = Note{}
	p.state = seeking
}
