package plan

import (
	"fmt"
	"strings"
)

// StageRef identifies one deployed API stage: a REST API plus one of its
// deployment stages.
type StageRef struct {
	APIID     string
	StageName string
}

// stageRefPattern is the canonical string form of a stage reference:
// arn:aws:apigateway:{region}::/restapis/{api_id}/stages/{stage_name}
const stageRefPattern = "arn:aws:apigateway:%s::/restapis/%s/stages/%s"

// FormatStageRef renders the canonical string form of a stage reference for
// the given region.
func FormatStageRef(ref StageRef, region string) string {
	return fmt.Sprintf(stageRefPattern, region, ref.APIID, ref.StageName)
}

// ParseStageRef parses the canonical string form back into its structured
// pair. The two representations are losslessly interconvertible: parsing the
// output of FormatStageRef always succeeds and yields the original pair.
func ParseStageRef(s string) (StageRef, error) {
	if !strings.HasPrefix(s, "arn:aws:apigateway:") {
		return StageRef{}, fmt.Errorf("not a stage reference: %q", s)
	}
	parts := strings.Split(s, "/")
	// arn:aws:apigateway:region::  restapis  api-id  stages  stage-name
	if len(parts) != 5 || parts[1] != "restapis" || parts[3] != "stages" {
		return StageRef{}, fmt.Errorf("malformed stage reference: %q", s)
	}
	apiID := parts[2]
	stageName := parts[4]
	if apiID == "" || stageName == "" {
		return StageRef{}, fmt.Errorf("stage reference missing api id or stage name: %q", s)
	}
	return StageRef{APIID: apiID, StageName: stageName}, nil
}

// RegionOfStageRef extracts the region embedded in a canonical stage
// reference string.
func RegionOfStageRef(s string) (string, error) {
	if _, err := ParseStageRef(s); err != nil {
		return "", err
	}
	head := strings.SplitN(s, "/", 2)[0] // arn:aws:apigateway:region::
	fields := strings.Split(head, ":")
	return fields[3], nil
}
