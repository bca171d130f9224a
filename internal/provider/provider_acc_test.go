package provider

import (
	"fmt"
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/hashicorp/terraform-plugin-go/tfprotov6"
	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/jimlambrt/gldap"
	"github.com/jimlambrt/gldap/testdirectory"
)

// testAccProtoV6ProviderFactories are used to instantiate a provider during
// acceptance testing. The factory function will be invoked for every Terraform
// CLI command executed to create a provider server to which the CLI can
// reattach.
var testAccProtoV6ProviderFactories = map[string]func() (tfprotov6.ProviderServer, error){
	"ldapauth": providerserver.NewProtocol6WithError(New("test")()),
}

const accServiceDN = "cn=service," + testdirectory.DefaultUserDN

func testAccPreCheck(t *testing.T) {
	t.Helper()
	if os.Getenv("TF_ACC") == "" {
		t.Skip("Acceptance tests skipped unless env 'TF_ACC' set")
	}
}

// testAccDirectory starts a plain LDAP server on loopback holding a service
// account, alice and bob.
func testAccDirectory(t *testing.T) *testdirectory.Directory {
	t.Helper()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "testdirectory",
		Level: hclog.Error,
	})
	td := testdirectory.Start(t,
		testdirectory.WithLogger(t, logger),
		testdirectory.WithNoTLS(t),
		testdirectory.WithDefaults(t, &testdirectory.Defaults{
			UserDN:  testdirectory.DefaultUserDN,
			GroupDN: testdirectory.DefaultGroupDN,
		}),
	)
	td.SetUsers(
		gldap.NewEntry(accServiceDN, map[string][]string{
			"cn":       {"service"},
			"password": {testServicePW},
		}),
		gldap.NewEntry("uid=alice,"+testdirectory.DefaultUserDN, map[string][]string{
			"uid":      {"alice"},
			"mail":     {"alice@example.org"},
			"password": {"secret"},
		}),
		gldap.NewEntry("uid=bob,"+testdirectory.DefaultUserDN, map[string][]string{
			"uid":      {"bob"},
			"password": {"hunter2"},
		}),
	)
	return td
}

func testAccProviderConfig(td *testdirectory.Directory) string {
	// The test server matches filters against entry DNs.
	return fmt.Sprintf(`
provider "ldapauth" {
  host                       = %[1]q
  port                       = %[2]d
  bind_dn                    = %[3]q
  bind_password              = %[4]q
  base_dn                    = %[5]q
  search_filter              = "(ou=people)"
  username_attributes        = "uid,mail"
  primary_username_attribute = "uid"
  password_attribute         = "password"
  allow_password_change      = true
  connect_timeout            = 5
}
`, td.Host(), td.Port(), accServiceDN, testServicePW, testdirectory.DefaultUserDN)
}

func TestAccConnectionCheckDataSource(t *testing.T) {
	testAccPreCheck(t)
	td := testAccDirectory(t)

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: testAccProviderConfig(td) + `
data "ldapauth_connection_check" "test" {}
`,
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("data.ldapauth_connection_check.test", "success", "true"),
					resource.TestCheckResourceAttr("data.ldapauth_connection_check.test", "connect", "success"),
					resource.TestCheckResourceAttr("data.ldapauth_connection_check.test", "start_tls", "not started"),
					resource.TestCheckResourceAttr("data.ldapauth_connection_check.test", "bind", "success"),
					resource.TestCheckResourceAttrSet("data.ldapauth_connection_check.test", "server"),
				),
			},
		},
	})
}

func TestAccUsersDataSource(t *testing.T) {
	testAccPreCheck(t)
	td := testAccDirectory(t)

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: testAccProviderConfig(td) + `
data "ldapauth_users" "all" {}

data "ldapauth_users" "alice" {
  filter = "(uid=alice)"
}
`,
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttrSet("data.ldapauth_users.all", "id"),
					resource.TestCheckResourceAttrSet("data.ldapauth_users.all", "user_count"),
					resource.TestCheckResourceAttr("data.ldapauth_users.alice", "user_count", "1"),
					resource.TestCheckResourceAttr("data.ldapauth_users.alice", "dns.0", "uid=alice,"+testdirectory.DefaultUserDN),
				),
			},
		},
	})
}

func TestAccPasswordResource(t *testing.T) {
	testAccPreCheck(t)
	td := testAccDirectory(t)

	config := func(password string) string {
		return testAccProviderConfig(td) + fmt.Sprintf(`
resource "ldapauth_password" "bob" {
  username = "bob"
  password = %q
}
`, password)
	}

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: config("first-rotation"),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("ldapauth_password.bob", "id", "bob"),
					resource.TestCheckResourceAttr("ldapauth_password.bob", "password", "first-rotation"),
				),
			},
			{
				Config: config("second-rotation"),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("ldapauth_password.bob", "id", "bob"),
					resource.TestCheckResourceAttr("ldapauth_password.bob", "password", "second-rotation"),
				),
			},
		},
	})
}
