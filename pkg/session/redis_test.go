package session

import "testing"

// TestRedisKeys はRedisキーの命名規則のテスト。
// メタ情報と履歴でキーが衝突しないことを確認する。
func TestRedisKeys(t *testing.T) {
	t.Parallel()

	if got, want := metaKey("abc"), "rin:session:abc"; got != want {
		t.Errorf("metaKey: got %q, want %q", got, want)
	}
	if got, want := historyKey("abc"), "rin:session:abc:history"; got != want {
		t.Errorf("historyKey: got %q, want %q", got, want)
	}
	if metaKey("abc") == historyKey("abc") {
		t.Error("メタ情報と履歴のキーが衝突している")
	}
}
