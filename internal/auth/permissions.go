package auth

// Builtin permission names. Dot-namespaced capability strings gating one
// action each.
const (
	PermReportView     = "report.view"
	PermReportUpload   = "report.upload"
	PermReportUpdate   = "report.update"
	PermReportDelete   = "report.delete"
	PermReportDownload = "report.download"
	PermCategoryManage = "category.manage"
	PermUserView       = "user.view"
	PermUserManage     = "user.manage"
	PermRoleManage     = "role.manage"
	PermAuditView      = "audit.view"
	PermDashboardView  = "dashboard.view"
)

// BuiltinPermissions is the permission catalog provisioned at startup.
// Categories group the catalog for display only.
var BuiltinPermissions = []Permission{
	{Name: PermReportView, Description: "View reports", Category: "Reports"},
	{Name: PermReportUpload, Description: "Upload new reports", Category: "Reports"},
	{Name: PermReportUpdate, Description: "Update report metadata", Category: "Reports"},
	{Name: PermReportDelete, Description: "Delete reports", Category: "Reports"},
	{Name: PermReportDownload, Description: "Download report files", Category: "Reports"},
	{Name: PermCategoryManage, Description: "Manage categories and tags", Category: "Categories"},
	{Name: PermUserView, Description: "View user accounts", Category: "Users"},
	{Name: PermUserManage, Description: "Create and update user accounts", Category: "Users"},
	{Name: PermRoleManage, Description: "Manage roles and permissions", Category: "Roles"},
	{Name: PermAuditView, Description: "View the activity log", Category: "System"},
	{Name: PermDashboardView, Description: "View the dashboard", Category: "System"},
}
