package orchestration

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gohan/genotypes/utils"
)

// fixed columns preceding the samples of a VCF data line
var vcfHeaders = []string{"chrom", "pos", "id", "ref", "alt", "qual", "filter", "info", "format"}

// VcfSource reads one record per VCF data line. Allele depths and
// likelihoods stay in the line's REF,ALT order.
type VcfSource struct {
	closer  io.Closer
	scanner *bufio.Scanner
	samples []string
	line    int
}

func NewVcfSource(path string) (*VcfSource, error) {
	r, err := utils.OpenInput(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<28)

	v := &VcfSource{closer: r, scanner: scanner}
	for scanner.Scan() {
		v.line++
		line := scanner.Text()
		if strings.HasPrefix(line, "##") {
			continue
		}
		if !strings.HasPrefix(line, "#CHROM") {
			r.Close()
			return nil, fmt.Errorf("%s: data before the #CHROM header at line %d", path, v.line)
		}
		headers := strings.Split(line, "\t")
		for _, h := range headers {
			if !utils.StringInSlice(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "#")), vcfHeaders) {
				v.samples = append(v.samples, strings.TrimSpace(h))
			}
		}
		return v, nil
	}
	r.Close()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return nil, fmt.Errorf("%s: no #CHROM header", path)
}

func (v *VcfSource) Samples() []string { return v.samples }

func (v *VcfSource) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for v.scanner.Scan() {
		v.line++
		line := v.scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return v.parseLine(line)
	}
	if err := v.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (v *VcfSource) parseLine(line string) (*Record, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != len(vcfHeaders)+len(v.samples) {
		return nil, &RowError{Line: v.line, Reason: fmt.Sprintf("expected %d columns, found %d", len(vcfHeaders)+len(v.samples), len(fields))}
	}
	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, &RowError{Line: v.line, Reason: fmt.Sprintf("invalid position %q", fields[1])}
	}

	rec := &Record{Sequence: fields[0], Position: pos}
	for _, id := range strings.Split(fields[2], ";") {
		if id != "" && id != "." {
			rec.Synonyms = append(rec.Synonyms, id)
		}
	}
	if len(rec.Synonyms) > 0 {
		rec.MarkerId, rec.Synonyms = rec.Synonyms[0], rec.Synonyms[1:]
	} else {
		rec.MarkerId = fmt.Sprintf("%s_%d", rec.Sequence, pos)
	}

	rec.Alleles = []string{fields[3]}
	if fields[4] != "." {
		rec.Alleles = append(rec.Alleles, strings.Split(fields[4], ",")...)
	}

	format := strings.Split(fields[8], ":")
	rec.Calls = make([]Call, len(v.samples))
	for i, sample := range v.samples {
		call, err := parseVcfCall(sample, format, strings.Split(fields[len(vcfHeaders)+i], ":"), rec.Alleles)
		if err != nil {
			return nil, &RowError{Line: v.line, Reason: err.Error()}
		}
		rec.Calls[i] = call
	}
	return rec, nil
}

func parseVcfCall(sample string, format []string, values []string, recAlleles []string) (Call, error) {
	call := Call{IndividualId: sample}
	for k, key := range format {
		if k >= len(values) {
			break
		}
		value := values[k]
		if value == "." || value == "" {
			continue
		}

		switch key {
		case "GT":
			phased := strings.Contains(value, "|")
			for _, index := range strings.FieldsFunc(value, func(r rune) bool { return r == '/' || r == '|' }) {
				if index == "." {
					call.Alleles = nil
					break
				}
				i, err := strconv.Atoi(index)
				if err != nil || i < 0 || i >= len(recAlleles) {
					return call, fmt.Errorf("sample %s: invalid GT %q", sample, value)
				}
				call.Alleles = append(call.Alleles, recAlleles[i])
			}
			call.Phased = phased
		case "AD", "PL":
			ints, err := parseIntList(value)
			if err != nil {
				return call, fmt.Errorf("sample %s: invalid %s %q", sample, key, value)
			}
			if key == "AD" {
				call.AlleleDepths = ints
			} else {
				call.PhredLikelihoods = ints
			}
		case "DP", "GQ":
			n, err := strconv.Atoi(value)
			if err != nil {
				return call, fmt.Errorf("sample %s: invalid %s %q", sample, key, value)
			}
			if key == "DP" {
				call.Depth = &n
			} else {
				call.GenotypeQuality = &n
			}
		case "PS":
			call.PhaseGroup = value
		default:
			if call.Extras == nil {
				call.Extras = map[string]string{}
			}
			call.Extras[key] = value
		}
	}
	return call, nil
}

func parseIntList(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		if p == "." {
			out[i] = 0
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (v *VcfSource) Close() error {
	return v.closer.Close()
}

var _ RecordSource = (*VcfSource)(nil)
