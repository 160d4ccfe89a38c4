package ui

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ConfirmReboot asks the operator to approve the reboot stage. Auto-confirm
// runs skip the prompt entirely.
func ConfirmReboot(hosts []string, autoConfirm bool) (bool, error) {
	if autoConfirm {
		return true, nil
	}

	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Reboot %d server(s): %s", len(hosts), strings.Join(hosts, ", ")),
		IsConfirm: true,
	}

	if _, err := prompt.Run(); err != nil {
		if err == promptui.ErrAbort {
			return false, nil
		}
		return false, fmt.Errorf("confirmation prompt failed: %v", err)
	}
	return true, nil
}
