package apply

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/quillworks/quill/internal/domain"
)

// DefaultLineCap is the maximum line count a written file may have before
// a split follow-up is queued.
const DefaultLineCap = 500

// SplitPlanner turns oversized written files into follow-up change specs
// that move part of the file into a sibling.
type SplitPlanner struct {
	// LineCap overrides DefaultLineCap when positive.
	LineCap int
}

func (p SplitPlanner) cap() int {
	if p.LineCap > 0 {
		return p.LineCap
	}
	return DefaultLineCap
}

// Check returns a split task iff the file exceeds the line cap. The task
// modifies the original below the cap and creates a `<stem>_part2<ext>`
// sibling. Equal inputs yield value-equal tasks, and the id depends only
// on the path, so a file still over the cap at the next apply replaces
// its pending follow-up instead of duplicating it.
func (p SplitPlanner) Check(filePath string, lineCount int) (domain.SplitTask, bool) {
	if lineCount <= p.cap() {
		return domain.SplitTask{}, false
	}
	target := splitSibling(filePath)
	return domain.SplitTask{Spec: domain.ChangeSpec{
		ID:          splitID(filePath),
		Title:       fmt.Sprintf("Split %s to meet the line cap", filePath),
		Description: "Split required to reduce line count",
		Items: []domain.ChangeItem{
			{
				Path:            filePath,
				ChangeType:      domain.ChangeModify,
				SummaryOfChange: fmt.Sprintf("Reduce lines from %d to below %d", lineCount, p.cap()),
			},
			{
				Path:            target,
				ChangeType:      domain.ChangeCreate,
				SummaryOfChange: "Create second part of split",
			},
		},
	}}, true
}

// splitID derives a stable follow-up id from the path.
func splitID(filePath string) string {
	sum := sha256.Sum256([]byte(filePath))
	return "split-" + hex.EncodeToString(sum[:4])
}

// splitSibling maps pkg/big.go to pkg/big_part2.go.
func splitSibling(filePath string) string {
	ext := path.Ext(filePath)
	stem := strings.TrimSuffix(filePath, ext)
	return domain.NormalizePath(stem + "_part2" + ext)
}
