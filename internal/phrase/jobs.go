package phrase

import (
	"sort"

	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

// JobInfo converts a vendor job into its stored form.
func JobInfo(part JobPart) tmd.JobInfo {
	info := tmd.JobInfo{
		Key:         part.UID,
		Type:        tmd.JobType,
		UID:         part.UID,
		Status:      part.Status,
		DateDue:     part.DateDue,
		DateCreated: part.DateCreated,
	}
	if part.WorkflowLevel != nil {
		info.WorkflowLevel = *part.WorkflowLevel
	}
	if part.WorkflowStep != nil {
		info.WorkflowStep = &tmd.WorkflowStep{ID: part.WorkflowStep.ID, Name: part.WorkflowStep.Name}
	}
	for _, p := range part.Providers {
		info.Providers = append(info.Providers, tmd.Provider{Type: p.Type, ID: p.ID})
	}
	return info
}

func JobIsCancelled(job tmd.JobInfo) bool {
	switch job.Status {
	case "CANCELLED", "DECLINED", "REJECTED":
		return true
	}
	return false
}

func JobIsComplete(job tmd.JobInfo) bool {
	return job.Status == "COMPLETED" || job.Status == "COMPLETED_BY_LINGUIST"
}

func jobIsOngoing(job tmd.JobInfo) bool {
	return !JobIsCancelled(job) && !JobIsComplete(job)
}

// SortJobsByWorkflowLevel returns a copy of jobs with later workflow steps
// first. Jobs without a level go last.
func SortJobsByWorkflowLevel(jobs []tmd.JobInfo) []tmd.JobInfo {
	out := append([]tmd.JobInfo(nil), jobs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].WorkflowLevel, out[j].WorkflowLevel
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a > b
	})
	return out
}

// LastValidJobInWorkflow returns the job of the latest workflow step that
// was not cancelled.
func LastValidJobInWorkflow(jobs []tmd.JobInfo) (tmd.JobInfo, bool) {
	for _, job := range SortJobsByWorkflowLevel(jobs) {
		if !JobIsCancelled(job) {
			return job, true
		}
	}
	return tmd.JobInfo{}, false
}

// JobsMetadata summarizes where a set of jobs stands for display.
type JobsMetadata struct {
	StepName     string `json:"stepName"`
	StepStatus   string `json:"stepStatus"`
	Due          string `json:"due,omitempty"`
	ActiveJobUID string `json:"activeJobUid,omitempty"`
}

func ExtractJobsMetadata(jobs []tmd.JobInfo) JobsMetadata {
	sorted := SortJobsByWorkflowLevel(jobs)
	meta := JobsMetadata{StepName: "Ongoing", StepStatus: "NEW"}
	if len(sorted) == 0 {
		return meta
	}
	last := sorted[0]
	active := last
	// earliest step that is still in progress
	for i := len(sorted) - 1; i >= 0; i-- {
		if jobIsOngoing(sorted[i]) {
			active = sorted[i]
			break
		}
	}
	if active.WorkflowStep != nil && active.WorkflowStep.Name != "" {
		meta.StepName = active.WorkflowStep.Name
	}
	if active.Status != "" {
		meta.StepStatus = active.Status
	}
	meta.Due = last.DateDue
	meta.ActiveJobUID = active.UID
	return meta
}

// JobsReadyToMerge reports whether the last valid workflow step is complete.
func JobsReadyToMerge(jobs []tmd.JobInfo) bool {
	job, ok := LastValidJobInWorkflow(jobs)
	return ok && JobIsComplete(job)
}

func ProjectURL(region Region, projectUID string) string {
	return BaseURL(region) + "/project2/show/" + projectUID
}

func JobEditorURL(region Region, jobUID string) string {
	return BaseURL(region) + "/job/" + jobUID + "/translate/"
}
