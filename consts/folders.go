package consts

// Folder roles. Every user has exactly one folder of each system role.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderDrafts  = "drafts"
	FolderTrash   = "trash"
	FolderSpam    = "spam"
	FolderArchive = "archive"
	FolderUser    = "user"
)

// SystemFolders maps each system role to its display name, in creation order.
var SystemFolders = []struct {
	Role string
	Name string
}{
	{FolderInbox, "Inbox"},
	{FolderSent, "Sent"},
	{FolderDrafts, "Drafts"},
	{FolderTrash, "Trash"},
	{FolderSpam, "Spam"},
	{FolderArchive, "Archive"},
}

// Delivery states for outbound mail.
const (
	DeliveryPending = "pending"
	DeliverySending = "sending"
	DeliverySent    = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed  = "failed"
)
