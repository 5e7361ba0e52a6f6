package config

import "testing"

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	for _, host := range []string{"db.example.com", "192.168.1.100", "host.docker.internal"} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveHostForDocker_LocalhostFollowsEnvironment(t *testing.T) {
	// Expected result depends on where the test binary runs.
	want := func(host string) string {
		if IsRunningInDocker() {
			return "host.docker.internal"
		}
		return host
	}
	for _, host := range []string{"localhost", "127.0.0.1"} {
		if got := ResolveHostForDocker(host); got != want(host) {
			t.Errorf("ResolveHostForDocker(%q) = %q, want %q", host, got, want(host))
		}
	}
}
