package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckVersionUpgradeAllowsSmallPatchDelta(t *testing.T) {
	assert.NoError(t, CheckVersionUpgrade("1.2.3", "1.2.4"))
	assert.NoError(t, CheckVersionUpgrade("1.2.3", "1.2.2"))
	assert.NoError(t, CheckVersionUpgrade("1.2.3", "1.2.3"))
}

func TestCheckVersionUpgradeRejectsMinorMismatch(t *testing.T) {
	assert.Error(t, CheckVersionUpgrade("1.2.0", "1.3.0"))
	assert.Error(t, CheckVersionUpgrade("1.2.0", "2.2.0"))
}

func TestCheckVersionUpgradeRejectsLargePatchDelta(t *testing.T) {
	assert.Error(t, CheckVersionUpgrade("1.2.0", "1.2.5"))
}
