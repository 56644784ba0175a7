package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/socialverse/social-verse/database"
	"github.com/socialverse/social-verse/models"
)

// FollowUser adds the caller to the target's followers. Following in
// either direction is what opens the messaging eligibility gate.
func FollowUser(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	var me models.User
	if err := database.DB.First(&me, "id = ?", userID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	var target models.User
	if err := database.DB.First(&target, "username = ?", c.Params("username")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}
	if target.ID == me.ID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot follow yourself"})
	}

	if err := database.DB.Model(&me).Association("Following").Append(&target); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to follow user"})
	}

	return c.JSON(fiber.Map{"success": true})
}

func UnfollowUser(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	var me models.User
	if err := database.DB.First(&me, "id = ?", userID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	var target models.User
	if err := database.DB.First(&target, "username = ?", c.Params("username")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	if err := database.DB.Model(&me).Association("Following").Delete(&target); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to unfollow user"})
	}

	return c.JSON(fiber.Map{"success": true})
}
