// Package stage declares the fixed eight-stage catalog and the attempt
// state machine. Descriptors are pure data consulted by the
// orchestrator; they own no mutable state.
package stage

import "patentsmith/internal/artifact"

// ID names one pipeline stage.
type ID string

// The eight stages, in execution order.
const (
	InputParser       ID = "input-parser"
	PatentSearcher    ID = "patent-searcher"
	OutlineGenerator  ID = "outline-generator"
	AbstractWriter    ID = "abstract-writer"
	ClaimsWriter      ID = "claims-writer"
	DescriptionWriter ID = "description-writer"
	DiagramGenerator  ID = "diagram-generator"
	MarkdownMerger    ID = "markdown-merger"
)

// Descriptor is an immutable catalog entry for one stage.
type Descriptor struct {
	ID  ID
	Dir string

	// Requires lists upstream artifacts that must exist before the
	// stage may start. A missing one is a MissingDependency failure.
	Requires []string

	// OptionalInputs are tolerated absent (research artifacts when the
	// searcher stage was skipped).
	OptionalInputs []string

	// Produces lists the artifacts that must exist after a successful
	// attempt; the validator checks them.
	Produces []string

	// FanOut marks the stage executed through the section fan-out
	// executor. Exactly one stage sets it.
	FanOut bool

	// Optional marks the stage the orchestrator may skip when its
	// collaborator is unavailable. Exactly one stage sets it.
	Optional bool

	// NoBackend marks a stage assembled locally without a model call.
	NoBackend bool

	// TemplateVersion pins the instruction template revision the stage
	// was written against.
	TemplateVersion string
}

// Catalog returns the eight stage descriptors in execution order.
func Catalog() []Descriptor {
	return []Descriptor{
		{
			ID:              InputParser,
			Dir:             artifact.DirInput,
			Produces:        []string{artifact.ParsedInfo},
			TemplateVersion: "v1",
		},
		{
			ID:       PatentSearcher,
			Dir:      artifact.DirResearch,
			Requires: []string{artifact.ParsedInfo},
			Produces: []string{
				artifact.SimilarPatents,
				artifact.PriorArtAnalysis,
				artifact.WritingStyleGuide,
			},
			Optional:        true,
			TemplateVersion: "v1",
		},
		{
			ID:             OutlineGenerator,
			Dir:            artifact.DirOutline,
			Requires:       []string{artifact.ParsedInfo},
			OptionalInputs: []string{artifact.SimilarPatents},
			Produces: []string{
				artifact.PatentOutline,
				artifact.StructureMapping,
			},
			TemplateVersion: "v1",
		},
		{
			ID:              AbstractWriter,
			Dir:             artifact.DirContent,
			Requires:        []string{artifact.ParsedInfo, artifact.PatentOutline},
			Produces:        []string{artifact.Abstract},
			TemplateVersion: "v1",
		},
		{
			ID:              ClaimsWriter,
			Dir:             artifact.DirContent,
			Requires:        []string{artifact.ParsedInfo, artifact.PatentOutline, artifact.Abstract},
			Produces:        []string{artifact.Claims},
			TemplateVersion: "v1",
		},
		{
			ID:  DescriptionWriter,
			Dir: artifact.DirContent,
			Requires: []string{
				artifact.ParsedInfo,
				artifact.PatentOutline,
				artifact.Abstract,
				artifact.Claims,
			},
			OptionalInputs:  []string{artifact.PriorArtAnalysis},
			Produces:        []string{artifact.Description},
			FanOut:          true,
			TemplateVersion: "v1",
		},
		{
			ID:       DiagramGenerator,
			Dir:      artifact.DirDiagrams,
			Requires: []string{artifact.Description, artifact.StructureMapping},
			Produces: []string{
				artifact.MethodFlowchart,
				artifact.DeviceStructure,
				artifact.SystemDiagram,
			},
			TemplateVersion: "v1",
		},
		{
			ID:  MarkdownMerger,
			Dir: artifact.DirFinal,
			Requires: []string{
				artifact.ParsedInfo,
				artifact.Abstract,
				artifact.Claims,
				artifact.Description,
				artifact.MethodFlowchart,
				artifact.DeviceStructure,
				artifact.SystemDiagram,
			},
			Produces:        []string{artifact.CompletePatent},
			NoBackend:       true,
			TemplateVersion: "v1",
		},
	}
}

// Lookup returns the descriptor for id.
func Lookup(id ID) (Descriptor, bool) {
	for _, d := range Catalog() {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
