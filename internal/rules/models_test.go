package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyPreservesHash(t *testing.T) {
	rule := &Rule{Contents: testContents()}
	rule.Contents["tags"] = []interface{}(nil)
	rule.Contents["meta"] = map[string]interface{}(nil)

	clone := rule.Copy()

	original, err := rule.Hash()
	require.NoError(t, err)
	copied, err := clone.Hash()
	require.NoError(t, err)
	assert.Equal(t, original, copied, "copying a rule must not change its content hash")

	assert.Nil(t, clone.Contents["tags"], "nil list fields stay nil through a copy")
	assert.Nil(t, clone.Contents["meta"], "nil map fields stay nil through a copy")
}

func TestCopyIsIndependent(t *testing.T) {
	rule := &Rule{Contents: testContents()}
	rule.AppendChangelogEntry("tuned the query")

	clone := rule.Copy()
	clone.Contents["query"] = "event.code:9999"
	clone.Contents["index"].([]interface{})[0] = "other-*"
	clone.SetVersion(7)
	clone.AppendChangelogEntry("clone-only note")

	assert.Equal(t, `process.name:powershell.exe and process.args:"DownloadString"`, rule.Contents["query"])
	assert.Equal(t, "winlogbeat-*", rule.Contents["index"].([]interface{})[0])
	assert.Equal(t, 0, rule.Version())
	assert.Len(t, rule.PendingChanges(), 1)
}
