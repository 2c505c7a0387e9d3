package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh/knownhosts"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/shell"
	"git.srvlab.io/whiskey/draid-bench/test/mock"
)

// Suite-level variables
var (
	testRunID string
	mockHost  *mock.StorageHost
	runner    shell.Runner
	ctx       context.Context
	cancel    context.CancelFunc
)

// TestE2E is the entry point for the Ginkgo test suite
func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "draid-bench E2E Suite")
}

var _ = BeforeSuite(func() {
	klog.SetOutput(GinkgoWriter)

	testRunID = fmt.Sprintf("e2e-%d", time.Now().Unix())
	klog.Infof("Starting E2E test suite with testRunID=%s", testRunID)

	By("Starting mock storage host")
	var err error
	mockHost, err = mock.NewStorageHost(0)
	Expect(err).NotTo(HaveOccurred(), "Failed to create mock storage host")
	Expect(mockHost.Start()).To(Succeed(), "Failed to start mock storage host")
	mockHost.AddDisks(deviceCount)
	klog.Infof("Mock storage host started on %s:%d", mockHost.Address(), mockHost.Port())

	By("Writing known_hosts for the mock host key")
	knownHostsFile := filepath.Join(GinkgoT().TempDir(), "known_hosts")
	addr := net.JoinHostPort(mockHost.Address(), strconv.Itoa(mockHost.Port()))
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, mockHost.HostKey())
	Expect(os.WriteFile(knownHostsFile, []byte(line+"\n"), 0o600)).To(Succeed())

	By("Connecting over SSH with host key verification")
	sshRunner, err := shell.NewSSHRunner(shell.SSHConfig{
		Host:           mockHost.Address(),
		Port:           mockHost.Port(),
		User:           "root",
		KnownHostsFile: knownHostsFile,
		MaxElapsedTime: 10 * time.Second,
	})
	Expect(err).NotTo(HaveOccurred())

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)
	Expect(sshRunner.Connect(ctx)).To(Succeed())
	runner = shell.NewBreakerRunner(sshRunner)

	klog.Infof("E2E suite setup complete")
})

var _ = AfterSuite(func() {
	By("Cleaning up test suite")

	if mockHost != nil {
		Expect(mockHost.PoolNames()).To(BeEmpty(), "No pool may outlive the suite")
	}
	if runner != nil {
		_ = runner.Close()
	}
	if cancel != nil {
		cancel()
	}
	if mockHost != nil {
		_ = mockHost.Stop()
	}
	klog.Infof("E2E suite cleanup complete")
})
