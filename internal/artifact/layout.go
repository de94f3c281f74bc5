// Package artifact owns the per-session directory layout and all file
// IO against it. The layout is a stable contract: external tooling reads
// these paths.
package artifact

// Stage directories in pipeline order, plus metadata.
const (
	DirInput    = "01_input"
	DirResearch = "02_research"
	DirOutline  = "03_outline"
	DirContent  = "04_content"
	DirDiagrams = "05_diagrams"
	DirFinal    = "06_final"
	DirMetadata = "metadata"

	DirFlowcharts = "05_diagrams/flowcharts"
	DirStructural = "05_diagrams/structural_diagrams"
	DirSequence   = "05_diagrams/sequence_diagrams"
)

// Artifact paths relative to the session directory.
const (
	RawDocument       = "01_input/raw_document.md"
	ParsedInfo        = "01_input/parsed_info.json"
	SimilarPatents    = "02_research/similar_patents.json"
	PriorArtAnalysis  = "02_research/prior_art_analysis.md"
	WritingStyleGuide = "02_research/writing_style_guide.md"
	PatentOutline     = "03_outline/patent_outline.md"
	StructureMapping  = "03_outline/structure_mapping.json"
	Abstract          = "04_content/abstract.md"
	Claims            = "04_content/claims.md"
	Description       = "04_content/description.md"
	Figures           = "04_content/figures.md"
	MethodFlowchart   = "05_diagrams/flowcharts/method_flowchart.mmd"
	DeviceStructure   = "05_diagrams/structural_diagrams/device_structure.mmd"
	SystemDiagram     = "05_diagrams/sequence_diagrams/system_architecture.mmd"
	CompletePatent    = "06_final/complete_patent.md"
	SummaryReport     = "06_final/summary_report.md"
	SessionMetadata   = "metadata/session.json"
	GenerationLog     = "metadata/generation.log"
)

// Layout returns every directory EnsureLayout creates, in order.
func Layout() []string {
	return []string{
		DirInput,
		DirResearch,
		DirOutline,
		DirContent,
		DirFlowcharts,
		DirStructural,
		DirSequence,
		DirFinal,
		DirMetadata,
	}
}
