package clearance

import (
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// LaneSummary is one column of the board.
type LaneSummary struct {
	Lane            Lane                        `json:"lane"`
	Items           []*repository.ChecklistItem `json:"items"`
	Total           int                         `json:"total"`
	Cleared         int                         `json:"cleared"`
	Rejected        int                         `json:"rejected"`
	Pending         int                         `json:"pending"`
	RequiredTotal   int                         `json:"requiredTotal"`
	RequiredCleared int                         `json:"requiredCleared"`
	Complete        bool                        `json:"complete"`
}

// Board is the computed clearance view of a separation.
type Board struct {
	RequestID       string          `json:"requestId"`
	Status          workflow.Status `json:"status"`
	Lanes           []LaneSummary   `json:"lanes"`
	RequiredTotal   int             `json:"requiredTotal"`
	RequiredCleared int             `json:"requiredCleared"`
	Progress        float64         `json:"progress"`
	Ready           bool            `json:"ready"`
}

// Progress is clearedRequired / totalRequired. With no required items the
// board is vacuously complete and progress is 1.
func Progress(items []*repository.ChecklistItem) float64 {
	total, cleared := requiredCounts(items)
	if total == 0 {
		return 1
	}
	return float64(cleared) / float64(total)
}

// Ready reports whether every required item is cleared.
func Ready(items []*repository.ChecklistItem) bool {
	total, cleared := requiredCounts(items)
	return cleared == total
}

func requiredCounts(items []*repository.ChecklistItem) (total, cleared int) {
	for _, it := range items {
		if !it.Required {
			continue
		}
		total++
		if it.Status == repository.ItemCleared {
			cleared++
		}
	}
	return total, cleared
}

// BuildBoard groups items by lane, in board order. Every lane appears even
// when empty; items on lanes no longer configured are appended after.
func BuildBoard(requestID string, status workflow.Status, items []*repository.ChecklistItem) *Board {
	byLane := make(map[Lane][]*repository.ChecklistItem)
	var extra []Lane
	for _, it := range items {
		l := Lane(it.Lane)
		if _, seen := byLane[l]; !seen && laneIndex(l) == len(Lanes) {
			extra = append(extra, l)
		}
		byLane[l] = append(byLane[l], it)
	}

	b := &Board{RequestID: requestID, Status: status}
	for _, l := range append(append([]Lane(nil), Lanes...), extra...) {
		laneItems := byLane[l]
		s := LaneSummary{Lane: l, Items: laneItems, Total: len(laneItems)}
		if s.Items == nil {
			s.Items = []*repository.ChecklistItem{}
		}
		for _, it := range laneItems {
			switch it.Status {
			case repository.ItemCleared:
				s.Cleared++
			case repository.ItemRejected:
				s.Rejected++
			default:
				s.Pending++
			}
		}
		s.RequiredTotal, s.RequiredCleared = requiredCounts(laneItems)
		s.Complete = s.RequiredCleared == s.RequiredTotal
		b.Lanes = append(b.Lanes, s)
	}

	b.RequiredTotal, b.RequiredCleared = requiredCounts(items)
	b.Progress = Progress(items)
	b.Ready = Ready(items)
	return b
}
