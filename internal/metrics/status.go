package metrics

// StatusSuccess is the label value for successful operations.
const StatusSuccess = "success"

// StatusFailure is the label value for failed operations.
const StatusFailure = "failure"

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
