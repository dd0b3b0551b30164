package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"asxreport/pkg/api"
	"asxreport/pkg/model"
)

// reportFlags 与 create_asx_report 参数一一对应
type reportFlags struct {
	code      string
	recipient string
	outputDir string
	subject   string
	body      string
	noEmail   bool
}

func (f reportFlags) raw() model.RawRequest {
	return model.RawRequest{
		Code:      f.code,
		Recipient: f.recipient,
		OutputDir: f.outputDir,
		Subject:   f.subject,
		Body:      f.body,
		SendEmail: !f.noEmail,
	}
}

func newReportCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report [asx code or quote URL]",
		Short: "Run one report and print the JSON result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.code = args[0]
			}
			cfg, l, err := setup()
			if err != nil {
				return err
			}
			cfg.Service.Workers = 1
			svc, err := api.NewService(cfg, l)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := svc.Close(); cerr != nil {
					l.Err(cerr, "释放资源失败")
				}
			}()
			return runOnce(cmd.Context(), svc, f.raw(), cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.code, "asx-code", "", "ASX code (defaults to report.default_ticker)")
	fs.StringVar(&f.recipient, "recipient", "", "email recipient")
	fs.StringVar(&f.outputDir, "output-dir", "", "artifact directory")
	fs.StringVar(&f.subject, "email-subject", "", "email subject")
	fs.StringVar(&f.body, "email-body", "", "email body")
	fs.BoolVar(&f.noEmail, "no-email", false, "skip the Mail.app step")

	// 短名保留为隐藏别名
	for alias, target := range map[string]*string{"code": &f.code, "subject": &f.subject, "body": &f.body} {
		fs.StringVar(target, alias, "", "alias")
		_ = fs.MarkHidden(alias)
	}
	return cmd
}

// runOnce 执行一次并输出 JSON，非成功状态返回错误以得到非零退出码
func runOnce(ctx context.Context, svc api.Service, raw model.RawRequest, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	svc.Start(ctx)

	resp := svc.CreateReport(ctx, raw)
	cancel()
	werr := svc.Wait()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if resp.Status != model.StatusSucceeded {
		return errors.Join(fmt.Errorf("report %s: %s", resp.Status, resp.Error), werr)
	}
	return werr
}
