package terraform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/akmukhi/developer-self-service/internal/models"
)

var (
	addRe     = regexp.MustCompile(`(\d+)\s+to\s+add`)
	changeRe  = regexp.MustCompile(`(\d+)\s+to\s+change`)
	destroyRe = regexp.MustCompile(`(\d+)\s+to\s+destroy`)
)

// ParsePlanSummary reads the first "Plan:" line of plan output, e.g.
// "Plan: 2 to add, 0 to change, 1 to destroy." Output without one (including "No changes.")
// yields zero counts.
func ParsePlanSummary(output string) models.PlanChanges {
	var c models.PlanChanges
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Plan:") {
			continue
		}
		c.Add = firstInt(addRe, line)
		c.Change = firstInt(changeRe, line)
		c.Destroy = firstInt(destroyRe, line)
		break
	}
	return c
}

func firstInt(re *regexp.Regexp, line string) int {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// varArgs renders variables as sorted "-var k=v" pairs. Maps and slices are passed as JSON.
func varArgs(vars map[string]any) ([]string, error) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		var v string
		switch val := vars[k].(type) {
		case map[string]any, []any:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("variable %q: %w", k, err)
			}
			v = string(b)
		case nil:
			v = ""
		default:
			v = fmt.Sprint(val)
		}
		args = append(args, "-var", k+"="+v)
	}
	return args, nil
}
