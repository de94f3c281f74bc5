package validate

import (
	"encoding/json"
	"regexp"
	"strings"

	"patentsmith/internal/artifact"
	"patentsmith/internal/errs"
	"patentsmith/internal/stage"
)

// AbstractPrefix is the mandated opening of a CN patent abstract.
const AbstractPrefix = "本申请公开了"

// Length thresholds in compressed runes (trimmed runes for the
// abstract cap).
const (
	AbstractMaxRunes    = 320
	DescriptionMinRunes = 10000
)

var claimOneRe = regexp.MustCompile(`(?m)^\s*1[.、]`)

// Section headings the merged document must contain exactly once.
var mergedHeadings = []string{
	"## 说明书摘要",
	"## 权利要求书",
	"## 说明书",
	"## 附图",
}

// Stage checks the written artifacts of one stage against its rules.
// A nil return gates advancement to the next stage.
func Stage(s *artifact.Store, d stage.Descriptor) error {
	if err := producedExist(s, d); err != nil {
		return err
	}

	switch d.ID {
	case stage.InputParser:
		return parsedInfo(s)
	case stage.PatentSearcher:
		return research(s)
	case stage.OutlineGenerator:
		return outline(s)
	case stage.AbstractWriter:
		return abstract(s)
	case stage.ClaimsWriter:
		return claims(s)
	case stage.DescriptionWriter:
		return description(s)
	case stage.MarkdownMerger:
		return merged(s)
	default:
		// diagram-generator has no content rule beyond existence.
		return nil
	}
}

func producedExist(s *artifact.Store, d stage.Descriptor) error {
	kind := errs.SchemaViolation
	if d.ID == stage.DiagramGenerator || d.ID == stage.MarkdownMerger {
		kind = errs.ConsistencyViolation
	}
	for _, rel := range d.Produces {
		if !s.Exists(rel) {
			return errs.Newf(kind, "missing output %s", rel)
		}
	}
	return nil
}

func parsedInfo(s *artifact.Store) error {
	var info map[string]any
	if err := s.ReadJSON(artifact.ParsedInfo, &info); err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "parsed_info is not a JSON object")
	}
	for _, key := range []string{"title", "technical_problem", "technical_solution"} {
		v, _ := info[key].(string)
		if strings.TrimSpace(v) == "" {
			return errs.Newf(errs.SchemaViolation, "parsed_info missing %q", key)
		}
	}
	kw, ok := info["keywords"].([]any)
	if !ok || len(kw) == 0 {
		return errs.New(errs.SchemaViolation, "parsed_info missing keywords")
	}
	return nil
}

func research(s *artifact.Store) error {
	raw, err := s.ReadText(artifact.SimilarPatents)
	if err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "similar_patents unreadable")
	}
	var refs []any
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "similar_patents is not a JSON array")
	}
	return nil
}

func outline(s *artifact.Store) error {
	var mapping map[string]any
	if err := s.ReadJSON(artifact.StructureMapping, &mapping); err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "structure_mapping is not a JSON object")
	}
	return nil
}

func abstract(s *artifact.Store) error {
	text, err := s.ReadText(artifact.Abstract)
	if err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "abstract unreadable")
	}
	body := strings.TrimSpace(text)
	if !strings.HasPrefix(body, AbstractPrefix) {
		return errs.Newf(errs.SchemaViolation, "abstract must open with %q", AbstractPrefix)
	}
	if n := RuneLen(body); n > AbstractMaxRunes {
		return errs.Newf(errs.LengthViolation, "abstract is %d runes, cap %d", n, AbstractMaxRunes)
	}
	return nil
}

func claims(s *artifact.Store) error {
	text, err := s.ReadText(artifact.Claims)
	if err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "claims unreadable")
	}
	if !claimOneRe.MatchString(text) {
		return errs.New(errs.SchemaViolation, "claims missing independent claim 1")
	}
	return nil
}

func description(s *artifact.Store) error {
	text, err := s.ReadText(artifact.Description)
	if err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "description unreadable")
	}
	if n := CompressedLen(text); n < DescriptionMinRunes {
		return errs.Newf(errs.LengthViolation, "description is %d compressed runes, floor %d", n, DescriptionMinRunes)
	}
	return nil
}

func merged(s *artifact.Store) error {
	doc, err := s.ReadText(artifact.CompletePatent)
	if err != nil {
		return errs.Wrap(errs.ConsistencyViolation, err, "complete_patent unreadable")
	}

	for _, heading := range mergedHeadings {
		switch strings.Count(doc, heading+"\n") {
		case 1:
		case 0:
			return errs.Newf(errs.ConsistencyViolation, "merged document missing section %q", heading)
		default:
			return errs.Newf(errs.ConsistencyViolation, "merged document duplicates section %q", heading)
		}
	}

	var info struct {
		Title string `json:"title"`
	}
	if err := s.ReadJSON(artifact.ParsedInfo, &info); err == nil && info.Title != "" {
		if !strings.HasPrefix(strings.TrimSpace(doc), "# "+info.Title) {
			return errs.New(errs.ConsistencyViolation, "merged document title does not match parsed_info")
		}
	}

	for _, rel := range []string{artifact.MethodFlowchart, artifact.DeviceStructure, artifact.SystemDiagram} {
		if !s.Exists(rel) {
			return errs.Newf(errs.ConsistencyViolation, "merged document references missing diagram %s", rel)
		}
	}
	if n := strings.Count(doc, "```mermaid"); n != 3 {
		return errs.Newf(errs.ConsistencyViolation, "merged document embeds %d mermaid figures, want 3", n)
	}
	return nil
}
