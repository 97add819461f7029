package indexes

import (
	"fmt"
	"time"

	c "gohan/genotypes/models/constants"
)

const (
	VARIANTS_INDEX         = "gt-variants"
	VARIANT_RUN_DATA_INDEX = "gt-variant-run-data"
	SAMPLES_INDEX          = "gt-samples"
	INDIVIDUALS_INDEX      = "gt-individuals"
	PROJECTS_INDEX         = "gt-projects"
	COUNTERS_INDEX         = "gt-counters"

	SAMPLES_COUNTER_ID = "samples"

	// separates the parts of composite document ids
	KEY_SEPARATOR = "¤"
)

type ReferencePosition struct {
	Sequence string `json:"sequence" mapstructure:"sequence"`
	Start    int64  `json:"start" mapstructure:"start"`
	End      int64  `json:"end,omitempty" mapstructure:"end"`
}

type Variant struct {
	Id                string              `json:"id" mapstructure:"id"`
	Type              c.VariantType       `json:"type" mapstructure:"type"`
	ReferencePosition *ReferencePosition  `json:"referencePosition,omitempty" mapstructure:"referencePosition"`
	KnownAlleles      []string            `json:"knownAlleles" mapstructure:"knownAlleles"`
	Synonyms          map[string][]string `json:"synonyms,omitempty" mapstructure:"synonyms"`
	Version           int64               `json:"version" mapstructure:"version"`
	CreatedTime       time.Time           `json:"createdTime" mapstructure:"-"`
}

// Copy returns a deep copy so callers can mutate alleles and synonyms freely.
func (v *Variant) Copy() *Variant {
	if v == nil {
		return nil
	}
	out := *v
	out.KnownAlleles = append([]string(nil), v.KnownAlleles...)
	if v.ReferencePosition != nil {
		rp := *v.ReferencePosition
		out.ReferencePosition = &rp
	}
	if v.Synonyms != nil {
		out.Synonyms = make(map[string][]string, len(v.Synonyms))
		for ns, ids := range v.Synonyms {
			out.Synonyms[ns] = append([]string(nil), ids...)
		}
	}
	return &out
}

type GenotypeAnnotations struct {
	Depth            *int              `json:"dp,omitempty" mapstructure:"dp"`
	GenotypeQuality  *int              `json:"gq,omitempty" mapstructure:"gq"`
	AlleleDepths     []int             `json:"ad,omitempty" mapstructure:"ad"`
	PhredLikelihoods []int             `json:"pl,omitempty" mapstructure:"pl"`
	PhaseGroup       string            `json:"ps,omitempty" mapstructure:"ps"`
	Extras           map[string]string `json:"extras,omitempty" mapstructure:"extras"`
}

func (a GenotypeAnnotations) IsEmpty() bool {
	return a.Depth == nil && a.GenotypeQuality == nil &&
		len(a.AlleleDepths) == 0 && len(a.PhredLikelihoods) == 0 &&
		a.PhaseGroup == "" && len(a.Extras) == 0
}

type Genotype struct {
	Code        string               `json:"gt" mapstructure:"gt"`
	Annotations *GenotypeAnnotations `json:"ann,omitempty" mapstructure:"ann"`
}

type VariantRunData struct {
	Id                string             `json:"id" mapstructure:"id"`
	ProjectId         string             `json:"projectId" mapstructure:"projectId"`
	RunName           string             `json:"runName" mapstructure:"runName"`
	VariantId         string             `json:"variantId" mapstructure:"variantId"`
	Type              c.VariantType      `json:"type" mapstructure:"type"`
	KnownAlleles      []string           `json:"knownAlleles" mapstructure:"knownAlleles"`
	ReferencePosition *ReferencePosition `json:"referencePosition,omitempty" mapstructure:"referencePosition"`
	Samples           map[int]Genotype   `json:"samples" mapstructure:"samples"`
	CreatedTime       time.Time          `json:"createdTime" mapstructure:"-"`
}

func VariantRunDataId(projectId string, runName string, variantId string) string {
	return fmt.Sprintf("%s%s%s%s%s", projectId, KEY_SEPARATOR, runName, KEY_SEPARATOR, variantId)
}

// Snapshot copies the variant's type, alleles and position onto the run record.
func (r *VariantRunData) Snapshot(v *Variant) {
	r.VariantId = v.Id
	r.Type = v.Type
	r.KnownAlleles = append([]string(nil), v.KnownAlleles...)
	if v.ReferencePosition != nil {
		rp := *v.ReferencePosition
		r.ReferencePosition = &rp
	} else {
		r.ReferencePosition = nil
	}
	r.Id = VariantRunDataId(r.ProjectId, r.RunName, r.VariantId)
}

type Sample struct {
	Id           int    `json:"id" mapstructure:"id"`
	ProjectId    string `json:"projectId" mapstructure:"projectId"`
	RunName      string `json:"runName" mapstructure:"runName"`
	IndividualId string `json:"individualId" mapstructure:"individualId"`
}

func SampleKey(projectId string, runName string, individualId string) string {
	return fmt.Sprintf("%s%s%s%s%s", projectId, KEY_SEPARATOR, runName, KEY_SEPARATOR, individualId)
}

type Individual struct {
	Id         string            `json:"id" mapstructure:"id"`
	Population string            `json:"population,omitempty" mapstructure:"population"`
	Metadata   map[string]string `json:"metadata,omitempty" mapstructure:"metadata"`
}

type Project struct {
	Id           string          `json:"id" mapstructure:"id"`
	Runs         []string        `json:"runs" mapstructure:"runs"`
	Sequences    []string        `json:"sequences" mapstructure:"sequences"`
	AlleleCounts []int           `json:"alleleCounts" mapstructure:"alleleCounts"`
	VariantTypes []c.VariantType `json:"variantTypes" mapstructure:"variantTypes"`
	Ploidy       c.Ploidy        `json:"ploidy" mapstructure:"ploidy"`
	Version      int64           `json:"version" mapstructure:"version"`
}

func (p *Project) Copy() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Runs = append([]string(nil), p.Runs...)
	out.Sequences = append([]string(nil), p.Sequences...)
	out.AlleleCounts = append([]int(nil), p.AlleleCounts...)
	out.VariantTypes = append([]c.VariantType(nil), p.VariantTypes...)
	return &out
}

type Counter struct {
	Id  string `json:"id"`
	Seq int    `json:"seq"`
}

var MAPPING_FIELDS_KEYWORD_IG256 = map[string]interface{}{
	"keyword": map[string]interface{}{
		"type":         "keyword",
		"ignore_above": 256,
	},
}
var MAPPING_TEXT = map[string]interface{}{"type": "text", "fields": MAPPING_FIELDS_KEYWORD_IG256}
var MAPPING_KEYWORD = map[string]interface{}{"type": "keyword"}
var MAPPING_LONG = map[string]interface{}{"type": "long"}
var MAPPING_DATE = map[string]interface{}{"type": "date"}
var MAPPING_DISABLED = map[string]interface{}{"type": "object", "enabled": false}

var MAPPING_REFERENCE_POSITION = map[string]interface{}{
	"properties": map[string]interface{}{
		"sequence": MAPPING_KEYWORD,
		"start":    MAPPING_LONG,
		"end":      MAPPING_LONG,
	},
}

var VARIANT_INDEX_MAPPING = map[string]interface{}{
	"properties": map[string]interface{}{
		"id":                MAPPING_KEYWORD,
		"type":              MAPPING_KEYWORD,
		"referencePosition": MAPPING_REFERENCE_POSITION,
		"knownAlleles":      MAPPING_KEYWORD,
		"synonyms":          map[string]interface{}{"type": "object", "dynamic": true},
		"version":           MAPPING_LONG,
		"createdTime":       MAPPING_DATE,
	},
}

var VARIANT_RUN_DATA_INDEX_MAPPING = map[string]interface{}{
	"properties": map[string]interface{}{
		"id":                MAPPING_KEYWORD,
		"projectId":         MAPPING_KEYWORD,
		"runName":           MAPPING_KEYWORD,
		"variantId":         MAPPING_KEYWORD,
		"type":              MAPPING_KEYWORD,
		"knownAlleles":      MAPPING_KEYWORD,
		"referencePosition": MAPPING_REFERENCE_POSITION,
		// sample ids are dynamic keys; keep them out of the mapping
		"samples":     MAPPING_DISABLED,
		"createdTime": MAPPING_DATE,
	},
}

var SAMPLE_INDEX_MAPPING = map[string]interface{}{
	"properties": map[string]interface{}{
		"id":           MAPPING_LONG,
		"projectId":    MAPPING_KEYWORD,
		"runName":      MAPPING_KEYWORD,
		"individualId": MAPPING_KEYWORD,
	},
}

var INDIVIDUAL_INDEX_MAPPING = map[string]interface{}{
	"properties": map[string]interface{}{
		"id":         MAPPING_KEYWORD,
		"population": MAPPING_TEXT,
		"metadata":   MAPPING_DISABLED,
	},
}

var PROJECT_INDEX_MAPPING = map[string]interface{}{
	"properties": map[string]interface{}{
		"id":           MAPPING_KEYWORD,
		"runs":         MAPPING_KEYWORD,
		"sequences":    MAPPING_KEYWORD,
		"alleleCounts": MAPPING_LONG,
		"variantTypes": MAPPING_KEYWORD,
		"ploidy":       MAPPING_LONG,
		"version":      MAPPING_LONG,
	},
}

var INDEX_MAPPINGS = map[string]map[string]interface{}{
	VARIANTS_INDEX:         VARIANT_INDEX_MAPPING,
	VARIANT_RUN_DATA_INDEX: VARIANT_RUN_DATA_INDEX_MAPPING,
	SAMPLES_INDEX:          SAMPLE_INDEX_MAPPING,
	INDIVIDUALS_INDEX:      INDIVIDUAL_INDEX_MAPPING,
	PROJECTS_INDEX:         PROJECT_INDEX_MAPPING,
	COUNTERS_INDEX:         {"properties": map[string]interface{}{"seq": MAPPING_LONG}},
}
