package service

import (
	"sort"

	"github.com/veloprocure/be-proc-approvals/internal/repository"
)

// groupByLevel buckets approval rows by level number and returns the bucket
// map plus the level numbers in ascending order. Level numbers may have gaps
// where levels were skipped at initiation.
func groupByLevel(approvals []*repository.Approval) (map[int][]*repository.Approval, []int) {
	groups := make(map[int][]*repository.Approval)
	for _, a := range approvals {
		groups[a.LevelNumber] = append(groups[a.LevelNumber], a)
	}

	numbers := make([]int, 0, len(groups))
	for n := range groups {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return groups, numbers
}

// hasRejection reports whether any row in the level was rejected. A single
// rejection decides the level (and the workflow) regardless of other rows.
func hasRejection(levelApprovals []*repository.Approval) bool {
	for _, a := range levelApprovals {
		if a.Status == repository.StatusRejected {
			return true
		}
	}
	return false
}

// allApproved reports whether every assigned approver has approved. The
// comparison is against the rows actually created, not the level's nominal
// required count: selection may have truncated to the available pool.
func allApproved(levelApprovals []*repository.Approval) bool {
	if len(levelApprovals) == 0 {
		return false
	}
	for _, a := range levelApprovals {
		if a.Status != repository.StatusApproved {
			return false
		}
	}
	return true
}

// nextLevelAfter returns the smallest materialized level number greater than
// current, or 0 when none remains.
func nextLevelAfter(numbers []int, current int) int {
	for _, n := range numbers {
		if n > current {
			return n
		}
	}
	return 0
}
