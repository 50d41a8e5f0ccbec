// Package kds derives one kitchen-wide status per order from per-line-item
// statuses and the tenant's configured workflow.
package kds

import (
	"fmt"

	"restohub/internal/domain"
)

// Aggregate maps each item status to its workflow index and reports
// workflow[minIndex], except that an order with any progressed item is
// reported as started (workflow[1]) even while other items sit at the
// initial step. Unset item statuses default to the workflow's first step.
//
// Item statuses are validated where they are assigned; an unknown status
// reaching aggregation is a programming error and is still rejected.
func Aggregate(w domain.Workflow, items []domain.LineItem) (string, error) {
	if len(items) == 0 {
		return w.Initial(), nil
	}

	minIdx, maxIdx := w.Len(), -1
	for _, li := range items {
		status := li.KitchenStatus
		if status == "" {
			status = w.Initial()
		}
		i, ok := w.Index(status)
		if !ok {
			return "", fmt.Errorf("item %q has status %q outside the workflow", li.Name, status)
		}
		if i < minIdx {
			minIdx = i
		}
		if i > maxIdx {
			maxIdx = i
		}
	}

	if minIdx == 0 && maxIdx > 0 && w.Len() > 1 {
		return w.At(1), nil
	}
	return w.At(minIdx), nil
}
