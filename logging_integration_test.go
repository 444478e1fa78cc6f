package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunCheckConfigWritesStructuredLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "imghub.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
StoragePath = "%s"
KeyMode = "md5"

[[Preset]]
Name = "thumb"
Width = 64
Height = 64
`, logPath, filepath.Join(dir, "storage")))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("check-config 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("日志文件应被创建: %v", err)
	}
	defer f.Close()

	var entry map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var candidate map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &candidate); err != nil {
			t.Fatalf("日志行应为 JSON: %v (%s)", err, scanner.Text())
		}
		if candidate["action"] == "check_config" {
			entry = candidate
		}
	}
	if entry == nil {
		t.Fatalf("未找到 check_config 日志")
	}
	if entry["key_mode"] != "md5" || entry["result"] != "ok" || entry["configPath"] != configPath {
		t.Fatalf("check_config 日志字段不完整: %v", entry)
	}
}

func TestLoggingFallbackToStdout(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o500); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}

	configPath := writeConfigFile(t, fmt.Sprintf(`
LogFilePath = "%s"
StoragePath = "%s"
`, filepath.Join(blocked, "sub", "imghub.log"), filepath.Join(dir, "storage")))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
