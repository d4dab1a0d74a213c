package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuilderJoinsSegments(t *testing.T) {
	key, err := KeyBuilder{Separator: "_"}.Build("reports", "k4", "2014")
	require.NoError(t, err)
	assert.Equal(t, "reports_k4_2014", key)

	key, err = KeyBuilder{Prefix: "provision", Separator: ":"}.Build("reports", 1234567, "k4", 2014)
	require.NoError(t, err)
	assert.Equal(t, "provision:reports:1234567:k4:2014", key)

	key, err = KeyBuilder{}.Build("a", true, 1.5)
	require.NoError(t, err)
	assert.Equal(t, "a:true:1.5", key)
}

func TestKeyBuilderRejectsNilSegments(t *testing.T) {
	b := KeyBuilder{}
	_, err := b.Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = b.Build("a", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var r *report
	_, err = b.Build("a", r)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKeyBuilderReplacesSeparatorInSegments(t *testing.T) {
	key, err := KeyBuilder{}.Build("http://example.com", "x")
	require.NoError(t, err)
	assert.Equal(t, "http-//example.com:x", key)
}

func TestKeyBuilderDigestsLongSegments(t *testing.T) {
	long := strings.Repeat("a", MaxSegmentLength+1)
	sum := sha256.Sum256([]byte(long))
	digest := base64.StdEncoding.EncodeToString(sum[:])

	key, err := KeyBuilder{}.Build("p", long)
	require.NoError(t, err)
	assert.Equal(t, "p:"+digest, key)

	again, err := KeyBuilder{}.Build("p", long)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	exact := strings.Repeat("b", MaxSegmentLength)
	key, err = KeyBuilder{}.Build(exact)
	require.NoError(t, err)
	assert.Equal(t, exact, key)
}

func TestKeyBuilderCountsCharactersNotBytes(t *testing.T) {
	accented := strings.Repeat("é", 100)
	key, err := KeyBuilder{Separator: "_"}.Build("a", accented)
	require.NoError(t, err)
	assert.Equal(t, "a_"+accented, key)

	limit := strings.Repeat("ü", MaxSegmentLength)
	key, err = KeyBuilder{Separator: "_"}.Build(limit)
	require.NoError(t, err)
	assert.Equal(t, limit, key)

	over := limit + "ü"
	key, err = KeyBuilder{Separator: "_"}.Build(over)
	require.NoError(t, err)
	assert.NotEqual(t, over, key)
	assert.Len(t, key, 44)
}

func TestKeyBuilderDigestNeverContainsSeparator(t *testing.T) {
	b := KeyBuilder{Separator: "/"}
	for i := 0; i < 64; i++ {
		long := fmt.Sprintf("%0130d", i)
		key, err := b.Build("a", long, "b")
		require.NoError(t, err)
		parts := strings.Split(key, "/")
		require.Len(t, parts, 3, key)
		assert.Equal(t, "a", parts[0])
		assert.Equal(t, "b", parts[2])
	}

	key, err := b.Build("a", fmt.Sprintf("%0130d", 0), "b")
	require.NoError(t, err)
	assert.Equal(t, "a/c4yqQu-PFU2-GOKSQJNu-yK3XWun5QWapjK6gT2IeUE=/b", key)
}

func TestKeyBuilderTrimsAroundCompositeMarker(t *testing.T) {
	key, err := KeyBuilder{Prefix: "p"}.Build("user", 1, "#", "name")
	require.NoError(t, err)
	assert.Equal(t, "p:user:1#name", key)

	key, err = KeyBuilder{}.Build("user#", "name")
	require.NoError(t, err)
	assert.Equal(t, "user#name", key)
}

func TestParseKey(t *testing.T) {
	k := ParseKey("user:1#name")
	assert.True(t, k.IsComposite())
	assert.Equal(t, "user:1", k.Container)
	assert.Equal(t, "name", k.Field)
	assert.Equal(t, "user:1#name", k.String())

	k = ParseKey("user:1")
	assert.False(t, k.IsComposite())
	assert.Equal(t, "user:1", k.Container)
	assert.Equal(t, "user:1", k.String())

	// only the first marker splits
	container, field, ok := SplitKey("a#b#c")
	assert.True(t, ok)
	assert.Equal(t, "a", container)
	assert.Equal(t, "b#c", field)

	assert.Equal(t, "a#b", CompositeKey("a", "b"))
	assert.Equal(t, "a", containerOf("a#b"))
	assert.Equal(t, "a", containerOf("a"))
}
