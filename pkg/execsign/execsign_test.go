package execsign

import "testing"

func TestBuildRemoteDest(t *testing.T) {
	if got := BuildRemoteDest("/srv/apps/", "AppA-signed.ipa"); got != "/srv/apps/AppA-signed.ipa" {
		t.Fatalf("directory base: got %q", got)
	}
	if got := BuildRemoteDest("/srv/apps/custom.ipa", "AppA-signed.ipa"); got != "/srv/apps/custom.ipa" {
		t.Fatalf("exact file base: got %q", got)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"App A (beta)":  "App_A_beta",
		"tracked-a":     "tracked-a",
		"__weird name_": "weird_name",
		"":              "app",
		"!!!":           "app",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Fatalf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewSignerValidation(t *testing.T) {
	if _, err := NewSigner(SignerConfig{}); err == nil {
		t.Fatalf("empty tool path must be rejected")
	}
	if _, err := NewSigner(SignerConfig{ToolPath: "zsign"}); err == nil {
		t.Fatalf("missing cert/profile must be rejected")
	}
	signer, err := NewSigner(SignerConfig{ToolPath: "zsign", CertPath: "cert.p12", ProfilePath: "app.mobileprovision"})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if signer.cfg.Timeout <= 0 {
		t.Fatalf("timeout default not applied")
	}
}

func TestNewUploaderValidation(t *testing.T) {
	if _, err := NewUploader(UploaderConfig{}); err == nil {
		t.Fatalf("empty host must be rejected")
	}
	uploader, err := NewUploader(UploaderConfig{Host: "assets.example.com", User: "ci"})
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if uploader.cfg.Timeout <= 0 {
		t.Fatalf("timeout default not applied")
	}
}
