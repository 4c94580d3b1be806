// Package stages provides the default audit graph:
//
//	indexer -> {transcriber, ocr} -> auditor -> reporter
//
// Transcription and OCR run in parallel once ingestion finishes.
package stages

import (
	"github.com/teranos/brandguard/pipeline"
	"github.com/teranos/brandguard/rules"
	"go.uber.org/zap"
)

// Stage names
const (
	StageIndexer     = "indexer"
	StageTranscriber = "transcriber"
	StageOCR         = "ocr"
	StageAuditor     = "auditor"
	StageReporter    = "reporter"
)

// Options wires the collaborators of the default graph.
// Nil collaborators fall back to the sidecar and go-getter defaults.
type Options struct {
	GraphName   string
	Ingest      IngestOptions
	Fetcher     Fetcher
	Transcriber Transcriber
	Recognizer  TextRecognizer
	Rules       *rules.Active
	Logger      *zap.SugaredLogger
}

// NewGraph builds the default audit graph
func NewGraph(opts Options) (*pipeline.Graph, error) {
	if opts.GraphName == "" {
		opts.GraphName = "audit_graph"
	}
	if opts.Rules == nil {
		opts.Rules = rules.NewActive(rules.Default())
	}

	g := pipeline.NewGraph(opts.GraphName, opts.Logger)
	steps := []struct {
		stage pipeline.Stage
		after []string
	}{
		{NewIndexer(opts.Ingest, opts.Fetcher), nil},
		{NewTranscriberStage(opts.Transcriber), []string{StageIndexer}},
		{NewOCRStage(opts.Recognizer), []string{StageIndexer}},
		{NewAuditor(opts.Rules), []string{StageTranscriber, StageOCR}},
		{NewReporter(), []string{StageAuditor}},
	}
	for _, step := range steps {
		if err := g.AddStage(step.stage, step.after...); err != nil {
			return nil, err
		}
	}
	return g, nil
}
