package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("SHELLCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}
	if opts.command != commandServe {
		t.Fatalf("默认命令应为 serve，得到 %s", opts.command)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefaultsToConfigToml(t *testing.T) {
	t.Setenv("SHELLCACHE_CONFIG", "")

	opts, err := parseCLIFlags([]string{"--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.checkOnly {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestParseCLIFlagsGenerationsCommand(t *testing.T) {
	opts, err := parseCLIFlags([]string{"generations", "--prune", "--config", "/tmp/site.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.command != commandGenerations || !opts.prune {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.configPath != "/tmp/site.toml" {
		t.Fatalf("子命令应继承 --config，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestParseCLIFlagsHelp(t *testing.T) {
	_, err := parseCLIFlags([]string{"--help"})
	var help errHelpShown
	if !errors.As(err, &help) {
		t.Fatalf("--help 应返回 errHelpShown，得到 %v", err)
	}
	if !strings.Contains(help.helpText, "generations") {
		t.Fatalf("用法文本应列出子命令: %s", help.helpText)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因: %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOut.(*bytes.Buffer).String(), "shellcache") {
		t.Fatalf("version 输出应包含 shellcache 标识")
	}
}
