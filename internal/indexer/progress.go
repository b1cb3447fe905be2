package indexer

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ProgressReporter reports phase progress during an indexing run.
type ProgressReporter interface {
	Start(desc string, total int)
	Increment()
	Finish()
}

type barProgress struct {
	enabled bool
	bar     *progressbar.ProgressBar
}

// NewProgress returns a progress bar reporter, or nil when disabled. A
// nil ProgressReporter is safe to pass to the pipeline.
func NewProgress(enabled bool) ProgressReporter {
	if !enabled {
		return nil
	}
	return &barProgress{enabled: true}
}

func (p *barProgress) Start(desc string, total int) {
	if !p.enabled || total <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *barProgress) Increment() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Add(1)
}

func (p *barProgress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

// DefaultProgressEnabled reports whether stderr is a terminal.
func DefaultProgressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
