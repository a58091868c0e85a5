package escrow

import "github.com/gin-gonic/gin"

type IHandler interface {
	Lock(c *gin.Context)
	Unlock(c *gin.Context)
	CancelUnlock(c *gin.Context)
	Submit(c *gin.Context)
}
