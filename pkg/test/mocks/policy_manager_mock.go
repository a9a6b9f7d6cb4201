package mocks

import (
	"time"

	"zotregistry.dev/zprune/pkg/retention/types"
)

type PolicyManagerMock struct {
	GetPolicyFn func(image string) types.Policy

	PlanFn func(image string, records []types.DigestRecord, now time.Time) (types.Plan, error)
}

func (pm PolicyManagerMock) GetPolicy(image string) types.Policy {
	if pm.GetPolicyFn != nil {
		return pm.GetPolicyFn(image)
	}

	return types.Policy{}
}

func (pm PolicyManagerMock) Plan(image string, records []types.DigestRecord, now time.Time) (types.Plan, error) {
	if pm.PlanFn != nil {
		return pm.PlanFn(image, records, now)
	}

	return types.Plan{Image: image}, nil
}
