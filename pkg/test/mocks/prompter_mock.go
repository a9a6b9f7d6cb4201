package mocks

type PrompterMock struct {
	ConfirmFn func(message string) (bool, error)
}

func (pm PrompterMock) Confirm(message string) (bool, error) {
	if pm.ConfirmFn != nil {
		return pm.ConfirmFn(message)
	}

	return true, nil
}
