package gitx

import "testing"

const sampleDiff = `diff --git a/auth/login.go b/auth/login.go
index 1111111..2222222 100644
--- a/auth/login.go
+++ b/auth/login.go
@@ -10,6 +10,9 @@ func Login() {
+	if user == nil {
+		return errNil
+	}
diff --git a/auth/login_test.go b/auth/login_test.go
index 3333333..4444444 100644
--- a/auth/login_test.go
+++ b/auth/login_test.go
@@ -1,3 +1,7 @@
+func TestNil(t *testing.T) {}
`

// UT-GIT-01: 按文件头切分，保持出现顺序与路径。
func TestSplitDiffSections(t *testing.T) {
	secs := SplitDiff(sampleDiff)
	if len(secs) != 2 {
		t.Fatalf("期望 2 个片段，得到 %d", len(secs))
	}
	if secs[0].Path != "auth/login.go" || secs[1].Path != "auth/login_test.go" {
		t.Fatalf("路径不符: %q, %q", secs[0].Path, secs[1].Path)
	}
	if secs[0].Body[:len(diffHeader)] != diffHeader {
		t.Fatalf("片段体应含头行")
	}
}

// UT-GIT-02: 空白输入返回 nil。
func TestSplitDiffEmpty(t *testing.T) {
	if got := SplitDiff("  \n\t"); got != nil {
		t.Fatalf("空白输入应返回 nil，得到 %v", got)
	}
}

// UT-GIT-03: TouchedPaths 去重且保序。
func TestTouchedPaths(t *testing.T) {
	dup := sampleDiff + sampleDiff
	paths := TouchedPaths(dup)
	want := []string{"auth/login.go", "auth/login_test.go"}
	if len(paths) != len(want) {
		t.Fatalf("期望 %d 条路径，得到 %d", len(want), len(paths))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("第 %d 条路径不符: %q", i, paths[i])
		}
	}
}
